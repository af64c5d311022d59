package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IdentifierPool hands out small integer ids and recycles released ones.
// Ids start at 1; zero never names a live owner.
type IdentifierPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func (p *IdentifierPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.owners) == 0 {
		p.owners = make([]interface{}, 1, 64)
	}
	for i := 1; i < len(p.owners); i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return uint32(i)
		}
	}
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

func (p *IdentifierPool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id == 0 || int(id) >= len(p.owners) {
		err := fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, len(p.owners))
		LogError(err.Error())
		return err
	}
	p.owners[id] = nil
	return nil
}

// Owner returns the object registered under id, or nil.
func (p *IdentifierPool) Owner(id uint32) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(id) >= len(p.owners) {
		return nil
	}
	return p.owners[id]
}

// NewDebugName builds a unique, human readable name for a GPU object.
func NewDebugName(kind string) string {
	return fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
}

// NewRunID identifies one process run, used to group captures.
func NewRunID() string {
	return uuid.NewString()
}
