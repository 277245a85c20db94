package crypto

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestEncryptDecrypt(t *testing.T) {
	g := NewWithT(t)

	c := NewCipher("master")
	sealed, err := c.Encrypt("s3cret")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(sealed).NotTo(ContainSubstring("s3cret"))

	plain, err := c.Decrypt(sealed)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(plain).To(Equal("s3cret"))
}

func TestDecryptWrongKey(t *testing.T) {
	g := NewWithT(t)

	sealed, err := NewCipher("right").Encrypt("s3cret")
	g.Expect(err).NotTo(HaveOccurred())

	_, err = NewCipher("wrong").Decrypt(sealed)
	g.Expect(err).To(HaveOccurred())
}

func TestDecryptGarbage(t *testing.T) {
	g := NewWithT(t)

	_, err := NewCipher("k").Decrypt("zz")
	g.Expect(err).To(HaveOccurred())

	_, err = NewCipher("k").Decrypt("abcd")
	g.Expect(err).To(MatchError(ContainSubstring("too short")))
}
