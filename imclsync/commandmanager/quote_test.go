package commandmanager

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"com.ibm.websphere.ND.v85_8.5.5012.20170627_1018", "com.ibm.websphere.ND.v85_8.5.5012.20170627_1018"},
		{"/opt/IBM/WebSphere/AppServer", "/opt/IBM/WebSphere/AppServer"},
		{"a=b,c=d", "a=b,c=d"},
		{"/tmp/My Repo", "'/tmp/My Repo'"},
		{"x; rm -rf /", "'x; rm -rf /'"},
		{"it's", `'it'"'"'s'`},
		{"$(id)", "'$(id)'"},
	}

	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandConfigString(t *testing.T) {
	config := CommandConfig{
		Command: "/opt/IBM/InstallationManager/eclipse/tools/imcl",
		Args:    []string{"install", "pkg one"},
		Sudo:    true,
		Env:     []string{"LANG=C"},
	}

	want := "sudo -S env LANG=C /opt/IBM/InstallationManager/eclipse/tools/imcl install 'pkg one'"
	if got := config.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
