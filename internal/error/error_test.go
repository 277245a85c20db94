package error

import (
	"errors"
	"fmt"
	"io"
	"testing"

	. "github.com/onsi/gomega"
)

func TestAppErrorMessage(t *testing.T) {
	g := NewWithT(t)
	g.Expect(New(ConfigError, "bad config", nil).Error()).To(Equal("bad config"))
	g.Expect(New(FileError, "read failed", io.EOF).Error()).To(Equal("read failed: EOF"))
}

func TestAppErrorUnwrap(t *testing.T) {
	g := NewWithT(t)
	err := fmt.Errorf("connect: %w", New(ConnectionError, "dial failed", io.ErrUnexpectedEOF))

	g.Expect(errors.Is(err, io.ErrUnexpectedEOF)).To(BeTrue())
	var appErr *AppError
	g.Expect(errors.As(err, &appErr)).To(BeTrue())
	g.Expect(appErr.Type).To(Equal(ConnectionError))
}

func TestIsTypeWalksNestedAppErrors(t *testing.T) {
	g := NewWithT(t)
	inner := New(TrustError, "host key rejected", errors.New("changed"))
	outer := New(ConnectionError, "handshake failed", inner)

	g.Expect(IsType(outer, ConnectionError)).To(BeTrue())
	g.Expect(IsType(outer, TrustError)).To(BeTrue())
	g.Expect(IsType(outer, AuthError)).To(BeFalse())
	g.Expect(IsType(errors.New("plain"), ConfigError)).To(BeFalse())
	g.Expect(IsType(nil, ConfigError)).To(BeFalse())
}

func TestErrorTypeString(t *testing.T) {
	g := NewWithT(t)
	g.Expect(PersistenceError.String()).To(Equal("persistence"))
	g.Expect(ErrorType(99).String()).To(Equal("ErrorType(99)"))
}
