package instance

import "testing"

func TestRemoteContainerName(t *testing.T) {
	c := RemoteContainer{Names: []string{"/my-app"}}
	if got := c.Name(); got != "my-app" {
		t.Errorf("Name() = %q, want my-app", got)
	}
}

func TestRemoteContainerStackName(t *testing.T) {
	c := RemoteContainer{Labels: map[string]string{"com.docker.compose.project": "alpha"}}
	if got := c.StackName(); got != "alpha" {
		t.Errorf("StackName() = %q, want alpha", got)
	}
}

func TestEndpointIsDocker(t *testing.T) {
	if !(Endpoint{Type: EndpointDocker}).IsDocker() {
		t.Error("EndpointDocker should report IsDocker true")
	}
	if (Endpoint{Type: EndpointType(99)}).IsDocker() {
		t.Error("unknown endpoint type should not report IsDocker true")
	}
}
