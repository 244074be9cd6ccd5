package resolver

import "testing"

func TestRepoPath(t *testing.T) {
	cases := map[string]string{
		"nginx:1.24":                   "library/nginx",
		"library/nginx:latest":         "library/nginx",
		"ghcr.io/user/repo:tag":        "user/repo",
		"registry-1.docker.io/lib/nginx": "lib/nginx",
		"nginx":                        "library/nginx",
	}
	for in, want := range cases {
		if got := RepoPath(in); got != want {
			t.Errorf("RepoPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegistryHost(t *testing.T) {
	cases := map[string]string{
		"nginx:1.24":           "docker.io",
		"ghcr.io/user/repo":    "ghcr.io",
		"registry-1.docker.io/lib/nginx": "docker.io",
		"registry.local:5000/myapp:v2": "registry.local:5000",
	}
	for in, want := range cases {
		if got := RegistryHost(in); got != want {
			t.Errorf("RegistryHost(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReplaceTag(t *testing.T) {
	if got := ReplaceTag("registry.local:5000/myapp:v1", "v2"); got != "registry.local:5000/myapp:v2" {
		t.Errorf("ReplaceTag with registry port = %q", got)
	}
	if got := ReplaceTag("nginx:1.24", "1.25"); got != "nginx:1.25" {
		t.Errorf("ReplaceTag simple = %q", got)
	}
}
