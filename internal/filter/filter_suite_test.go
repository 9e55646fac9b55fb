package filter

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestFilterSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Existence Filter Suite")
}

var _ = Describe("Existence", func() {
	var e *Existence

	BeforeEach(func() {
		e = New(1 << 10)
	})

	It("reports an unseen key as absent", func() {
		Expect(e.MaybeExists("never-added")).To(BeFalse())
	})

	It("reports an added key as maybe-present", func() {
		e.Add("k1")
		Expect(e.MaybeExists("k1")).To(BeTrue())
	})

	It("reports a removed key as absent again", func() {
		e.Add("k1")
		e.Remove("k1")
		Expect(e.MaybeExists("k1")).To(BeFalse())
	})

	It("rebuilds to exactly the given key set", func() {
		e.Add("stale-a")
		e.Add("stale-b")
		e.Rebuild([]string{"fresh"})

		Expect(e.MaybeExists("stale-a")).To(BeFalse())
		Expect(e.MaybeExists("stale-b")).To(BeFalse())
		Expect(e.MaybeExists("fresh")).To(BeTrue())
	})

	It("goes uncertain once a saturated filter fails an insert, and clears on rebuild", func() {
		tiny := New(4)
		var keys []string
		for i := 0; i < 500 && !tiny.NeedsGrowth(); i++ {
			k := "k" + string(rune('a'+i%26)) + string(rune(i))
			keys = append(keys, k)
			tiny.Add(k)
		}
		Expect(tiny.NeedsGrowth()).To(BeTrue())
		Expect(tiny.MaybeExists("never-inserted")).To(BeTrue())

		tiny.Rebuild(keys)
		Expect(tiny.NeedsGrowth()).To(BeFalse())
	})
})
