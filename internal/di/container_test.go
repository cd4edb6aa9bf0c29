package di

import (
	"testing"
)

type greeter struct{ name string }

func TestRegisterAndResolve(t *testing.T) {
	c := NewContainer()
	c.Register(ServiceScript, &greeter{name: "script"})

	g, err := Resolve[*greeter](c, ServiceScript)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if g.name != "script" {
		t.Errorf("name = %q, want script", g.name)
	}

	if _, err := Resolve[*greeter](c, ServiceExport); err == nil {
		t.Error("Resolve of missing service succeeded")
	}
	if _, err := Resolve[string](c, ServiceScript); err == nil {
		t.Error("Resolve with wrong type succeeded")
	}
}

func TestNamesAndClear(t *testing.T) {
	c := NewContainer()
	c.Register("b", 1)
	c.Register("a", 2)

	names := c.GetNames()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("GetNames = %v", names)
	}
	if !c.Has("a") {
		t.Error("Has(a) = false")
	}

	c.Clear()
	if c.Has("a") || c.Get("a") != nil {
		t.Error("Clear left services behind")
	}
}

func TestGetContainerSingleton(t *testing.T) {
	if GetContainer() != GetContainer() {
		t.Error("GetContainer returned different instances")
	}
}
