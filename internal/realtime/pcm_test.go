package realtime

import "testing"

func TestPCM16_LittleEndian(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := EncodePCM16(samples)

	if len(data) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(data))
	}
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("expected little-endian encoding, got % x", data[2:4])
	}

	decoded := DecodePCM16(append(data, 0xff))
	if len(decoded) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}
