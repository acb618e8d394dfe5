package firewall

import (
	"reflect"
	"testing"
)

func TestBlocksAfterThreshold(t *testing.T) {
	fw := NewFirewall(3)
	for i := 0; i < 2; i++ {
		fw.RecordFailedAuth("10.0.0.1")
	}
	if !fw.IsAllowed("10.0.0.1") {
		t.Fatalf("blocked too early")
	}
	fw.RecordFailedAuth("10.0.0.1")
	if fw.IsAllowed("10.0.0.1") {
		t.Fatalf("expected block at the threshold")
	}
	if !fw.IsAllowed("10.0.0.2") {
		t.Fatalf("other IPs must be unaffected")
	}
	if got := fw.GetBlacklist(); !reflect.DeepEqual(got, []string{"10.0.0.1"}) {
		t.Fatalf("unexpected blacklist %v", got)
	}
}

func TestSuccessResetsCount(t *testing.T) {
	fw := NewFirewall(2)
	fw.RecordFailedAuth("ip")
	fw.RecordSuccess("ip")
	fw.RecordFailedAuth("ip")
	if !fw.IsAllowed("ip") {
		t.Fatalf("a success should reset the failure count")
	}
}

func TestUnblock(t *testing.T) {
	fw := NewFirewall(1)
	fw.RecordFailedAuth("ip")
	if !fw.Unblock("ip") || !fw.IsAllowed("ip") {
		t.Fatalf("unblock should lift the block")
	}
	if fw.Unblock("ip") {
		t.Fatalf("second unblock should report nothing to do")
	}
}

func TestDefaultThreshold(t *testing.T) {
	fw := NewFirewall(0)
	for i := 0; i < 4; i++ {
		fw.RecordFailedAuth("ip")
	}
	if !fw.IsAllowed("ip") {
		t.Fatalf("default threshold is five")
	}
	fw.RecordFailedAuth("ip")
	if fw.IsAllowed("ip") {
		t.Fatalf("expected block after five failures")
	}
}
