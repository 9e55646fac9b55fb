package txn

import (
	"github.com/kvnode/kvnode/store"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func newFSM() *FSM {
	ks, err := store.NewKeyspace()
	Expect(err).NotTo(HaveOccurred())
	exec := store.NewExecutor(ks, nil, nil, nil)
	return New(exec)
}

var _ = Describe("FSM", func() {
	var fsm *FSM

	BeforeEach(func() {
		fsm = newFSM()
	})

	Describe("outside a transaction", func() {
		It("only intercepts MULTI", func() {
			reply, handled := fsm.Handle("GET foo")
			Expect(handled).To(BeFalse())
			Expect(reply).To(Equal(""))
		})

		It("opens a transaction on MULTI", func() {
			reply, handled := fsm.Handle("MULTI")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal("OK\n"))
			Expect(fsm.State()).To(Equal(InTxn))
		})
	})

	Describe("inside a transaction", func() {
		BeforeEach(func() {
			_, _ = fsm.Handle("MULTI")
		})

		It("rejects nested MULTI without losing the buffer", func() {
			reply, handled := fsm.Handle("SET a 1")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal(""))

			reply, handled = fsm.Handle("MULTI")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal("ERROR: Nested transactions are not supported\n"))
			Expect(fsm.State()).To(Equal(InTxn))

			// the SET buffered before the nested MULTI still runs on EXEC.
			_, _ = fsm.Handle("GET a")
			reply, _ = fsm.Handle("EXEC")
			Expect(reply).To(Equal("1\n"))
		})

		It("buffers an unsupported verb without aborting until EXEC", func() {
			reply, handled := fsm.Handle("INCR counter")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal(""))
			Expect(fsm.State()).To(Equal(InTxn))
		})

		It("aborts the whole buffer on EXEC if any verb is unsupported", func() {
			_, _ = fsm.Handle("LPUSH x 1")
			_, _ = fsm.Handle("FOOBAR")

			reply, handled := fsm.Handle("EXEC")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal("ERROR: Transaction contains unsupported commands\n"))
			Expect(fsm.State()).To(Equal(Idle))
		})

		It("buffers legal verbs silently and applies them atomically on EXEC", func() {
			_, _ = fsm.Handle("SET a 1")
			_, _ = fsm.Handle("GET a")
			_, _ = fsm.Handle("DEL a")

			reply, handled := fsm.Handle("EXEC")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal("1\n")) // only GET contributes to the reply
			Expect(fsm.State()).To(Equal(Idle))
		})

		It("clears the buffer and returns to Idle on DISCARD", func() {
			_, _ = fsm.Handle("SET a 1")
			reply, handled := fsm.Handle("DISCARD")
			Expect(handled).To(BeTrue())
			Expect(reply).To(Equal("OK\n"))
			Expect(fsm.State()).To(Equal(Idle))

			// the discarded SET must not have been applied.
			reply, handled = fsm.Handle("GET a")
			Expect(handled).To(BeFalse())
			Expect(reply).To(Equal(""))
			Expect(fsm.exec.Dispatch("GET a", store.ExecOptions{})).To(Equal("nil\n"))
		})
	})

	Describe("two independent FSMs", func() {
		It("never share transaction state", func() {
			other := newFSM()
			_, _ = fsm.Handle("MULTI")
			Expect(fsm.State()).To(Equal(InTxn))
			Expect(other.State()).To(Equal(Idle))
		})
	})
})
