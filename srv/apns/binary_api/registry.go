package binary_api

import "fmt"

// IndexError is returned when APNS reports an identifier that does not belong to the current batch.
// It means the client and the gateway disagree about what was sent on the connection.
type IndexError struct {
	Identifier uint32
	Index      int
	Size       int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("identifier %d (index %d) is outside of the batch of %d tokens", e.Identifier, e.Index, e.Size)
}

// Registry tracks the ordered tokens submitted in one batch.
// Each token gets the frame identifier base+index, so an error-response frame maps back to exactly one position.
// A Registry is owned by a single send and is not safe for concurrent use.
type Registry struct {
	base   uint32
	tokens []string
}

// NewRegistry creates an empty registry whose first token will get the identifier base.
func NewRegistry(base uint32, capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{
		base:   base,
		tokens: make([]string, 0, capacity),
	}
}

// Insert appends a token and returns its frame identifier.
func (r *Registry) Insert(token string) uint32 {
	r.tokens = append(r.tokens, token)
	return r.base + uint32(len(r.tokens)-1)
}

// Len is the number of tokens in the batch.
func (r *Registry) Len() int {
	return len(r.tokens)
}

// ID returns the frame identifier for the given index, mirroring Insert.
func (r *Registry) ID(idx int) uint32 {
	return r.base + uint32(idx)
}

// Resolve maps an identifier reported by APNS back to the batch position and token.
func (r *Registry) Resolve(id uint32) (int, string, error) {
	// Unsigned subtraction wraps identifiers below base to huge indexes, which fail the range check.
	offset := id - r.base
	if uint64(offset) >= uint64(len(r.tokens)) {
		return -1, "", &IndexError{Identifier: id, Index: int(int32(offset)), Size: len(r.tokens)}
	}
	idx := int(offset)
	return idx, r.tokens[idx], nil
}

// ResolveIndex returns the token at a batch position.
func (r *Registry) ResolveIndex(idx int) (string, error) {
	if idx < 0 || idx >= len(r.tokens) {
		return "", &IndexError{Identifier: r.ID(idx), Index: idx, Size: len(r.tokens)}
	}
	return r.tokens[idx], nil
}

// Reset rolls the registry back to an empty batch, keeping its base.
func (r *Registry) Reset() {
	r.tokens = r.tokens[:0]
}
