package wire

import "fmt"

// UserMsg carries an opaque application payload.
type UserMsg struct {
	Content []byte
}

func (m *UserMsg) Tag() Tag { return TagUserMsg }

func (m *UserMsg) marshalBody(buf []byte) []byte { return putBytes(buf, m.Content) }

func (m *UserMsg) unmarshalBody(body []byte) error {
	content, _, err := getBytes(body)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}

func (m *UserMsg) String() string { return fmt.Sprintf("UserMsg(%d bytes)", len(m.Content)) }
