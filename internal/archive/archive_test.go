package archive

import "testing"

func TestDestFromPath(t *testing.T) {
	tests := []struct {
		prefix     string
		objectPath string
		want       string
	}{
		{"editions", "editions/Megatrend Folger/2019/2019-05-02 Megatrend Folger 18-2019.pdf",
			"Megatrend Folger/2019/2019-05-02 Megatrend Folger 18-2019.pdf"},
		{"editions/", "editions/Megatrend Folger/2019/a.pdf", "Megatrend Folger/2019/a.pdf"},
		{"", "Megatrend Folger/2019/a.pdf", "Megatrend Folger/2019/a.pdf"},
		// A path that never carried the prefix passes through unchanged.
		{"editions", "other/a.pdf", "other/a.pdf"},
	}
	for _, tt := range tests {
		if got := DestFromPath(tt.prefix, tt.objectPath); got != tt.want {
			t.Errorf("DestFromPath(%q, %q) = %q, want %q", tt.prefix, tt.objectPath, got, tt.want)
		}
	}
}

func TestDestFromPathInvertsObjectPath(t *testing.T) {
	c := &Client{prefix: "editions"}
	dest := "Megatrend Folger/2019/2019-05-02 Megatrend Folger 18-2019.pdf"
	if got := DestFromPath(c.prefix, c.objectPath(dest)); got != dest {
		t.Errorf("round trip changed the destination: %q", got)
	}
}
