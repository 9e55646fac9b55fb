package txn

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestTxnSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transaction FSM Suite")
}
