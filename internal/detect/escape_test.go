package detect

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("TriggerDetector", func() {
	It("fires on the full sequence", func() {
		d := NewTriggerDetector([]byte("~~"))
		Expect(d.Feed('~')).To(Equal(Action{Kind: ActionBuffer}))
		Expect(d.Feed('~')).To(Equal(Action{Kind: ActionTrigger}))
	})

	It("releases the held prefix on a mismatch", func() {
		d := NewTriggerDetector([]byte("~~"))
		Expect(d.Feed('~').Kind).To(Equal(ActionBuffer))
		Expect(d.Feed('x')).To(Equal(Action{Kind: ActionPass, Bytes: []byte("~x")}))
		Expect(d.Feed('y')).To(Equal(Action{Kind: ActionPass, Bytes: []byte("y")}))
	})

	It("passes everything when unconfigured", func() {
		d := NewTriggerDetector(nil)
		Expect(d.Enabled()).To(BeFalse())
		for _, b := range []byte("~~abc") {
			Expect(d.Feed(b)).To(Equal(Action{Kind: ActionPass, Bytes: []byte{b}}))
		}
	})

	It("flushes a held prefix once", func() {
		d := NewTriggerDetector([]byte("~~"))
		d.Feed('~')
		Expect(d.Flush()).To(Equal([]byte("~")))
		Expect(d.Flush()).To(BeNil())
	})
})

var _ = Describe("EscapeFilter", func() {
	var f *EscapeFilter

	BeforeEach(func() {
		f = NewEscapeFilter([]byte("~~"), []byte("~b"))
	})

	It("fires the snippet trigger", func() {
		Expect(f.Feed('~')).To(BeEmpty())
		Expect(f.Feed('~')).To(Equal([]Event{{Trigger: TriggerSnippet}}))
	})

	It("fires the bookmark trigger after the snippet detector lets go", func() {
		Expect(f.Feed('~')).To(BeEmpty())
		Expect(f.Feed('b')).To(Equal([]Event{{Trigger: TriggerSaveBookmark}}))
	})

	It("forwards an abandoned prefix", func() {
		Expect(f.Feed('~')).To(BeEmpty())
		Expect(f.Feed('x')).To(Equal([]Event{{Pass: []byte("~x")}}))
	})

	It("lets the F10 key sequence through untouched", func() {
		f = NewEscapeFilter([]byte("1~"), nil)
		for _, b := range []byte("\x1b[21~") {
			Expect(f.Feed(b)).To(Equal([]Event{{Pass: []byte{b}}}))
		}
	})

	It("lets SS3 arrow keys through untouched", func() {
		f = NewEscapeFilter([]byte("A"), nil)
		Expect(f.Write([]byte("\x1bOA"))).To(Equal([]Event{{Pass: []byte("\x1bOA")}}))
		Expect(f.Write([]byte("A"))).To(Equal([]Event{{Trigger: TriggerSnippet}}))
	})

	It("releases held bytes before an escape sequence", func() {
		Expect(f.Feed('~')).To(BeEmpty())
		Expect(f.Feed(0x1b)).To(Equal([]Event{{Pass: []byte("~\x1b")}}))
	})

	It("passes everything with no triggers configured", func() {
		f = NewEscapeFilter(nil, nil)
		Expect(f.Write([]byte("~~~b hello\x1b[A"))).To(Equal([]Event{{Pass: []byte("~~~b hello\x1b[A")}}))
	})

	It("keeps stream order around a trigger inside one chunk", func() {
		Expect(f.Write([]byte("ls~~pwd"))).To(Equal([]Event{
			{Pass: []byte("ls")},
			{Trigger: TriggerSnippet},
			{Pass: []byte("pwd")},
		}))
	})

	It("flushes both detectors in order", func() {
		f = NewEscapeFilter([]byte("ab"), []byte("xa"))
		// 'x' is released by the snippet detector and held by the bookmark
		// detector; 'a' is then held by the snippet detector.
		Expect(f.Feed('x')).To(BeEmpty())
		Expect(f.Feed('a')).To(BeEmpty())
		Expect(f.Flush()).To(Equal([]byte("xa")))
	})
})
