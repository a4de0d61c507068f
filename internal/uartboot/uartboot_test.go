package uartboot

import (
	"context"
	"regexp"
	"testing"
	"time"
)

func ubootPromptForTest() *regexp.Regexp {
	return regexp.MustCompile(`=>\s*$`)
}

func TestAwaitReadyPassiveSoC(t *testing.T) {
	port := &scriptedPort{lines: []string{"booting", "C", "C"}}
	if err := AwaitReady(context.Background(), port, "soc"); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
}

func TestAwaitReadyActiveMCURespondsToMenuPrompt(t *testing.T) {
	port := &scriptedPort{lines: []string{"Please enter 1 or 0", "C", "C"}}
	if err := AwaitReady(context.Background(), port, "mcu"); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}

	sawZero := false
	for _, w := range port.sent {
		if string(w) == "0" {
			sawZero = true
		}
	}
	if !sawZero {
		t.Fatal("expected a raw \"0\" write in response to the menu prompt")
	}
}

func TestPortsByNameRejectsUnknownRole(t *testing.T) {
	ports := Ports{}
	if _, err := ports.byName("bogus"); err == nil {
		t.Fatal("expected an error for an unknown port role")
	}
}

func TestPortsByNameResolvesEachRole(t *testing.T) {
	soc, mcu, hsm := &scriptedPort{}, &scriptedPort{}, &scriptedPort{}
	ports := Ports{SoC: soc, MCU: mcu, HSM: hsm}

	if p, err := ports.byName("soc"); err != nil || p != soc {
		t.Fatalf("byName(soc) = (%v, %v)", p, err)
	}
	if p, err := ports.byName("mcu"); err != nil || p != mcu {
		t.Fatalf("byName(mcu) = (%v, %v)", p, err)
	}
	if p, err := ports.byName("hsm"); err != nil || p != hsm {
		t.Fatalf("byName(hsm) = (%v, %v)", p, err)
	}
}

func TestAwaitFastbootUDPExtractsIP(t *testing.T) {
	port := &scriptedPort{lines: []string{
		"=> ",
		"Listening for fastboot command on 192.168.1.50",
	}}
	ip, err := AwaitFastbootUDP(context.Background(), port, ubootPromptForTest(), 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitFastbootUDP: %v", err)
	}
	if ip != "192.168.1.50" {
		t.Fatalf("ip = %q, want 192.168.1.50", ip)
	}
}
