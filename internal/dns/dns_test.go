package dns

import "testing"

func TestLookupLiteralIP(t *testing.T) {
	for _, addr := range []string{"127.0.0.1", "10.0.0.1", "::1", "2606:4700:4700::1111"} {
		ip, err := Lookup(addr)
		if err != nil {
			t.Fatalf("lookup %q: %v", addr, err)
		}
		if ip != addr {
			t.Fatalf("lookup %q = %q, want the literal back", addr, ip)
		}
	}
}

func TestPickIPPrefersIPv4(t *testing.T) {
	ip, err := pickIP([]string{"2606:4700:4700::1111", "1.1.1.1"})
	if err != nil {
		t.Fatalf("pick: %v", err)
	}
	if ip != "1.1.1.1" {
		t.Fatalf("picked %q, want the IPv4 address", ip)
	}

	ip, err = pickIP([]string{"2606:4700:4700::1111"})
	if err != nil || ip != "2606:4700:4700::1111" {
		t.Fatalf("picked %q (%v), want the lone IPv6 address", ip, err)
	}

	if _, err := pickIP(nil); err == nil {
		t.Fatal("empty answer accepted")
	}
}
