// Package chain holds the boundary to the consensus layer: the entity
// registry mapping hotkeys to uids, and the weight submitter.
package chain

import (
	"encoding/json"
	"fmt"
	"os"
)

// Registry is the ordered set of registered entity hotkeys. The position of
// a hotkey in the registry is its uid.
type Registry interface {
	Hotkeys() []string
	UID(hotkey string) (int, bool)
	Size() int
}

// StaticRegistry is a registry loaded once from a JSON file holding an
// ordered hotkey array. Suitable until a live chain client replaces it.
type StaticRegistry struct {
	hotkeys []string
	uids    map[string]int
}

// LoadRegistry reads a registry file. The file is a JSON array of hotkey
// strings whose order defines the uid assignment.
func LoadRegistry(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var hotkeys []string
	if err := json.Unmarshal(data, &hotkeys); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	return NewStaticRegistry(hotkeys), nil
}

// NewStaticRegistry builds a registry from an ordered hotkey list. Duplicate
// hotkeys keep their first position.
func NewStaticRegistry(hotkeys []string) *StaticRegistry {
	uids := make(map[string]int, len(hotkeys))
	for i, hk := range hotkeys {
		if _, ok := uids[hk]; !ok {
			uids[hk] = i
		}
	}
	return &StaticRegistry{hotkeys: hotkeys, uids: uids}
}

// Hotkeys returns the ordered hotkey list.
func (r *StaticRegistry) Hotkeys() []string {
	return append([]string(nil), r.hotkeys...)
}

// UID returns the uid for a hotkey.
func (r *StaticRegistry) UID(hotkey string) (int, bool) {
	uid, ok := r.uids[hotkey]
	return uid, ok
}

// Size returns the number of registered entities.
func (r *StaticRegistry) Size() int {
	return len(r.hotkeys)
}
