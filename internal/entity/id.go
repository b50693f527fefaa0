package entity

import (
	"strings"

	"github.com/google/uuid"
)

type ID string

func NewID(id any) ID {
	switch v := id.(type) {
	case string:
		return ID(strings.TrimSpace(v))
	case ID:
		return v
	case uuid.UUID:
		return ID(v.String())
	}
	panic("unsupported ID type")
}

// NewRunID returns a random id for one promoter invocation.
func NewRunID() ID { return NewID(uuid.New()) }

func (id ID) String() string { return string(id) }
func (id ID) IsZero() bool   { return id == "" }
