package filesystem

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fastftp/internal/config"
	"fastftp/internal/errors"

	"golang.org/x/crypto/blake2b"
)

// FileInfo represents information about a file to be transferred
type FileInfo struct {
	Name     string
	Size     int64
	Path     string
	IsDir    bool
	Modified time.Time
}

// GetFileInfo returns information about a file
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileSystemError("stat", path, err)
	}

	return &FileInfo{
		Name:     stat.Name(),
		Size:     stat.Size(),
		Path:     path,
		IsDir:    stat.IsDir(),
		Modified: stat.ModTime(),
	}, nil
}

// ReadChunks reads the whole file and splits it into chunks of at most
// chunkSize bytes.
func ReadChunks(path string, chunkSize int) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileSystemError("read", path, err)
	}
	return SplitChunks(data, chunkSize), nil
}

// SplitChunks divides data into consecutive chunks of chunkSize bytes; the
// last chunk holds the remainder. Empty input yields no chunks. The chunks
// alias data.
func SplitChunks(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 || len(data) == 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		chunks = append(chunks, data[start:end:end])
	}
	return chunks
}

// Checksum returns the hex BLAKE2b-256 digest of everything read from r.
func Checksum(r io.Reader) (string, error) {
	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", errors.NewFileSystemError("hash_init", "", err)
	}
	if _, err := io.Copy(hash, r); err != nil {
		return "", errors.NewFileSystemError("hash_read", "", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ChecksumFile returns the digest of the file at path.
func ChecksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", errors.NewFileSystemError("open", path, err)
	}
	defer file.Close()

	sum, err := Checksum(file)
	if err != nil {
		return "", errors.NewFileSystemError("hash", path, err)
	}
	return sum, nil
}

// SanitizeFileName reduces a peer-supplied path to a bare file name that is
// safe to create inside the output directory.
func SanitizeFileName(name string) (string, error) {
	// Peers may send Windows paths.
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	if base == "." || base == ".." || base == "/" || base == "" {
		return "", errors.NewValidationError("file_name", name, "no usable file name")
	}
	if strings.ContainsRune(base, 0) {
		return "", errors.NewValidationError("file_name", name, "file name contains NUL")
	}
	return base, nil
}

// EnsureDirectoryExists creates a directory if it doesn't exist
func EnsureDirectoryExists(dir string) error {
	if err := os.MkdirAll(dir, config.LogDirPerms); err != nil {
		return errors.NewFileSystemError("mkdir", dir, err)
	}

	return nil
}
