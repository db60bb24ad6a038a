package metrics

import (
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMain binds the package-level vectors once; parallel tests share them.
func TestMain(m *testing.M) {
	if err := Init(prometheus.NewRegistry()); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
