package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFallsBackToDefault(t *testing.T) {
	p := Get("no_such_platform")
	assert.Equal(t, "default", p.Name())
	assert.Equal(t, []string{"show tech"}, p.Defaults().WithPaging("show tech"))
}

type stubPlugin struct{}

func (stubPlugin) Name() string       { return "stub" }
func (stubPlugin) Defaults() Defaults { return Defaults{ShowTechCommand: "display diagnostic-information"} }

func TestRegister(t *testing.T) {
	Register("stub", stubPlugin{})
	assert.Equal(t, "display diagnostic-information", Get("stub").Defaults().ShowTechCommand)
	assert.Contains(t, Names(), "stub")
}
