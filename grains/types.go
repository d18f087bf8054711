package grains

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"
)

// ID names one grain as "type/key".
type ID struct {
	Type string
	Key  string
}

func NewID(grainType string) ID {
	return ID{Type: grainType, Key: uuid.New().String()}
}

func ParseID(s string) (ID, error) {
	slash := strings.IndexByte(s, '/')
	if slash <= 0 || slash == len(s)-1 {
		return ID{}, fmt.Errorf("invalid grain id %q", s)
	}
	return ID{Type: s[:slash], Key: s[slash+1:]}, nil
}

func (id ID) String() string {
	return id.Type + "/" + id.Key
}

// Validate reports why id would not survive a round trip through its string
// form.
func (id ID) Validate() error {
	if id.Type == "" || strings.Contains(id.Type, "/") {
		return fmt.Errorf("grain type %q must be non-empty and contain no '/'", id.Type)
	}
	if id.Key == "" {
		return fmt.Errorf("grain key of %q must be non-empty", id.Type)
	}
	return nil
}

func (id ID) IsZero() bool {
	return id.Type == "" && id.Key == ""
}

// UniformHash places the grain on the 32-bit ring used to partition
// reminders between silos.
func (id ID) UniformHash() uint32 {
	return murmur3.Sum32([]byte(id.String()))
}

type Invocation struct {
	InvocationID string
	GrainID      ID
	MethodName   string
	Data         []byte
}
