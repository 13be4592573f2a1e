package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/clipvault/clipvault/pkg/transcode"
	"github.com/clipvault/clipvault/pkg/vfs"
)

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so prefixed keys organize the row types
// into logical namespaces. Owner-scoped prefixes keep per-user range scans
// cheap (all of a user's nodes share one prefix) and make the database
// self-documenting when inspected.
//
// Data Type         Prefix  Key Format            Value Type
// =================================================================
// Node Rows         "n:"    n:<owner>:<nodeID>    NodeRow (JSON)
// Path Index        "np:"   np:<owner>:<path>     nodeID (8-byte BE)
// Blob Rows         "b:"    b:<blobID>            BlobRow (JSON)
// Hash Index        "bh:"   bh:<hash>             blobID (8-byte BE)
// Upload Tasks      "u:"    u:<owner>:<taskID>    UploadTaskRow (JSON)
// Transcode Orders  "o:"    o:<orderID>           Order (JSON)
// Task Index        "ot:"   ot:<taskID>           orderID (8-byte BE)
//
// The path index holds exactly one entry per live node path; soft-deleted
// nodes are indexed under their relocated /deleted path, so a lookup of
// the original path correctly misses. The hash index is the unique-hash
// constraint: InsertBlob reads it before writing, and Badger's SSI
// detects two transactions racing on the same missing key.

func keyNode(owner vfs.OwnerID, id vfs.NodeID) []byte {
	return []byte(fmt.Sprintf("n:%d:%d", owner, id))
}

func keyNodePrefix(owner vfs.OwnerID) []byte {
	return []byte(fmt.Sprintf("n:%d:", owner))
}

func keyNodePath(owner vfs.OwnerID, path string) []byte {
	return []byte(fmt.Sprintf("np:%d:%s", owner, path))
}

func keyBlob(id vfs.BlobID) []byte {
	return []byte(fmt.Sprintf("b:%d", id))
}

func keyBlobHash(hash string) []byte {
	return []byte("bh:" + hash)
}

func keyUploadTask(owner vfs.OwnerID, id int64) []byte {
	return []byte(fmt.Sprintf("u:%d:%d", owner, id))
}

func keyUploadTaskPrefix(owner vfs.OwnerID) []byte {
	return []byte(fmt.Sprintf("u:%d:", owner))
}

func keyOrder(id transcode.OrderID) []byte {
	return []byte(fmt.Sprintf("o:%d", id))
}

func keyOrderTask(id transcode.TaskID) []byte {
	return []byte(fmt.Sprintf("ot:%d", id))
}

// encodeID serializes an id for index values.
func encodeID(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

// decodeID deserializes an index value back to an id.
func decodeID(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("invalid id encoding: %d bytes", len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
