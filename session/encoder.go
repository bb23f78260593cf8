package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	sessionFormatVersionCurrent = sessionFormatVersionV1
	sessionFormatVersionV1      = 1
)

// ErrInvalidEncoding is returned by Decode for truncated or unknown records.
var ErrInvalidEncoding = errors.New("invalid session encoding")

// Encode writes s as
//
//	version(1) | token | userID | role | clientIP | expireDate(unix nanos, 8)
//
// where every string is prefixed by a one-byte length.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	for _, f := range []struct {
		name  string
		value string
	}{
		{"token", s.Token},
		{"userID", s.UserID},
		{"role", s.Role},
		{"clientIP", s.ClientIP},
	} {
		if len(f.value) > 255 {
			return nil, errors.New(f.name + " too long")
		}
		buf.WriteByte(byte(len(f.value)))
		buf.WriteString(f.value)
	}

	if err := binary.Write(&buf, binary.BigEndian, s.ExpireDate.UnixNano()); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	if version != sessionFormatVersionV1 {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	for _, dst := range []*string{&s.Token, &s.UserID, &s.Role, &s.ClientIP} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*dst = v
	}

	var expire int64
	if err := binary.Read(reader, binary.BigEndian, &expire); err != nil {
		return nil, ErrInvalidEncoding
	}
	s.ExpireDate = time.Unix(0, expire)

	if reader.Len() != 0 {
		return nil, ErrInvalidEncoding
	}

	return s, nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", ErrInvalidEncoding
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrInvalidEncoding
	}
	return string(b), nil
}
