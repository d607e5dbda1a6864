package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed, time-ordered id such as "rep-0190f0c4-...".
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Valid reports whether id carries prefix followed by a uuid.
func Valid(prefix string, id string) bool {
	if len(id) <= len(prefix)+1 || id[:len(prefix)+1] != prefix+"-" {
		return false
	}
	_, err := uuid.Parse(id[len(prefix)+1:])
	return err == nil
}
