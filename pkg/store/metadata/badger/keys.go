package badger

import "fmt"

// Database Key Namespace Design
// ==============================
//
// Data Type        Prefix   Key Format                       Value
// =====================================================================
// Node             "n:"     n:<id>                           record (JSON)
// Child index      "c:"     c:<parentID>:<seq>:<id>          id (bytes)
// Creation order   "o:"     o:<seq>:<id>                     id (bytes)
// Sequence lease   "seq"    seq                              badger.Sequence
//
// seq is a zero-padded 20 digit decimal so that lexicographic key order equals
// numeric order. Prefix scans over "c:<parentID>:" and "o:" therefore return
// nodes in creation order without sorting.

const (
	prefixNode  = "n:"
	prefixChild = "c:"
	prefixOrder = "o:"
	keySequence = "seq"
)

func keyNode(id string) []byte {
	return []byte(prefixNode + id)
}

func keyChild(parentID string, seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixChild, parentID, seq, id))
}

func keyChildPrefix(parentID string) []byte {
	return []byte(prefixChild + parentID + ":")
}

func keyOrder(seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixOrder, seq, id))
}
