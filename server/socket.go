package server

import (
	"encoding/hex"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// SocketPath returns the socket for the connection identified by key
// inside dir. Equal keys map to equal paths, and the name stays short
// enough for the unix socket path limit however long key is.
func SocketPath(dir, key string) string {
	sum := blake3.Sum256([]byte(key))
	return filepath.Join(dir, "cp-"+hex.EncodeToString(sum[:10]))
}
