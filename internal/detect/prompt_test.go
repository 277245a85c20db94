package detect

import (
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("PromptDetector", func() {
	var d *PromptDetector

	BeforeEach(func() {
		d = NewPromptDetector(true)
	})

	DescribeTable("recognises prompts",
		func(output string) {
			Expect(d.Feed([]byte(output))).To(BeTrue())
		},
		Entry("sudo", "[sudo] password for deploy: "),
		Entry("plain", "Password:"),
		Entry("lowercase with trailing space", "password: "),
		Entry("key passphrase", "Enter passphrase for key '/home/me/.ssh/id_ed25519': "),
		Entry("user at host", "deploy@web1's password: "),
		Entry("after other output", "Last login: Mon\r\n$ sudo ls\r\n[sudo] password for root: "),
	)

	DescribeTable("ignores ordinary output",
		func(output string) {
			Expect(d.Feed([]byte(output))).To(BeFalse())
		},
		Entry("shell prompt", "deploy@web1:~$ "),
		Entry("password mentioned mid-line", "password: changed successfully\r\n"),
		Entry("empty", ""),
	)

	It("matches a prompt split across chunks", func() {
		Expect(d.Feed([]byte("[sudo] password "))).To(BeFalse())
		Expect(d.Feed([]byte("for deploy: "))).To(BeTrue())
	})

	It("stops matching once cleared", func() {
		Expect(d.Feed([]byte("Password: "))).To(BeTrue())
		d.Clear()
		Expect(d.Feed([]byte("ok\r\n"))).To(BeFalse())
	})

	It("never matches when disabled", func() {
		d = NewPromptDetector(false)
		Expect(d.Enabled()).To(BeFalse())
		Expect(d.Feed([]byte("[sudo] password for deploy: "))).To(BeFalse())
		Expect(d.buf).To(BeEmpty())
	})

	It("drops invalid UTF-8 and still matches", func() {
		Expect(d.Feed([]byte("\xff\xfePass\xc3word: "))).To(BeTrue())
	})

	It("keeps only a bounded window", func() {
		Expect(d.Feed([]byte(strings.Repeat("x", 4*promptBufferCap)))).To(BeFalse())
		Expect(len(d.buf)).To(BeNumerically("<=", promptBufferCap))
		Expect(d.Feed([]byte("Password: "))).To(BeTrue())
	})

	It("does not split a multibyte rune when trimming", func() {
		d.Feed([]byte(strings.Repeat("é", promptBufferCap)))
		Expect(len(d.buf)).To(BeNumerically("<=", promptBufferCap))
		Expect(string(d.buf)).To(HavePrefix("é"))
	})
})
