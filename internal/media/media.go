// Package media holds the image, video and voice endpoints' generators.
// No generation backend is wired yet: enabled generators answer with a
// placeholder payload and disabled ones with status "disabled".
package media

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Statuses reported by every generator.
const (
	StatusPlaceholder = "placeholder"
	StatusDisabled    = "disabled"
	StatusSuccess     = "success"
)

// ErrInvalidRequest matches every *ValidationError.
var ErrInvalidRequest = errors.New("invalid media request")

// ValidationError describes a rejected request field.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Is makes errors.Is(err, ErrInvalidRequest) hold.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(format string, args ...interface{}) error {
	return errors.WithStack(&ValidationError{Msg: fmt.Sprintf(format, args...)})
}

// Clock returns the current time; tests replace it.
type Clock func() time.Time

func isoTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
