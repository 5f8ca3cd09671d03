// Package palette assigns display colors to feeds. Assignment state lives in
// an explicit Cursor owned by the caller, so repeated runs are deterministic
// and independent of each other.
package palette

// colors is the fixed round-robin palette used when a feed has no
// user-chosen color.
var colors = [...]string{
	"#7eb26d",
	"#eab839",
	"#6ed0e0",
	"#ef843c",
	"#e24d42",
	"#1f78c1",
	"#ba43a9",
	"#705da0",
}

// Cursor walks the palette round-robin. The zero value starts at the first
// color.
type Cursor struct {
	next int
}

// NewCursor returns a cursor positioned at the first palette color.
func NewCursor() *Cursor {
	return &Cursor{}
}

// Next returns the next palette color and advances the cursor.
func (c *Cursor) Next() string {
	color := colors[c.next%len(colors)]
	c.next++
	return color
}

// Valid reports whether s is a 3- or 6-digit hex color with a leading '#'.
func Valid(s string) bool {
	if len(s) != 4 && len(s) != 7 {
		return false
	}
	if s[0] != '#' {
		return false
	}
	for _, r := range s[1:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// Pick returns preferred when it is a valid hex color, otherwise the next
// palette color from c.
func Pick(preferred string, c *Cursor) string {
	if Valid(preferred) {
		return preferred
	}
	return c.Next()
}
