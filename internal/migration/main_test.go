package migration

import (
	"os"
	"testing"

	"github.com/emrgen/salesdb/internal/tester"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}
