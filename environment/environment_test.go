package environment_test

import (
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/nicolagi/bitsd/environment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Environment state is process-wide, so each scenario runs in a child process.
func TestEnvironment(t *testing.T) {
	if os.Getenv("BITS_ENVIRONMENT_CHILD") == "1" {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				environment.Init()
			}()
		}
		wg.Wait()
		// Changing the variable after Init has no effect.
		_ = os.Setenv(environment.Variable, "something-else")
		environment.Init()
		os.Stdout.WriteString("name=" + environment.Name() + "\n")
		if environment.DumpErrors() {
			os.Stdout.WriteString("dump=on\n")
		} else {
			os.Stdout.WriteString("dump=off\n")
		}
		return
	}
	testCases := []struct {
		value    string
		fallback string
		name     string
		dump     string
	}{
		{value: "", name: environment.Development, dump: "dump=on"},
		{value: "test", name: environment.Test, dump: "dump=on"},
		{value: "production", name: environment.Production, dump: "dump=off"},
		{value: " Production ", name: environment.Production, dump: "dump=off"},
		{fallback: "production", name: environment.Production, dump: "dump=off"},
		{value: "development", fallback: "production", name: environment.Development, dump: "dump=on"},
	}
	for _, tc := range testCases {
		t.Run("environment "+tc.name+" from "+strings.TrimSpace(tc.value)+" or "+tc.fallback, func(t *testing.T) {
			cmd := exec.Command(os.Args[0], "-test.run=^TestEnvironment$")
			cmd.Env = append(os.Environ(),
				"BITS_ENVIRONMENT_CHILD=1",
				environment.Variable+"="+tc.value,
				environment.FallbackVariable+"="+tc.fallback,
			)
			out, err := cmd.Output()
			require.Nil(t, err)
			assert.Contains(t, string(out), "name="+tc.name+"\n")
			assert.Contains(t, string(out), tc.dump+"\n")
		})
	}
}
