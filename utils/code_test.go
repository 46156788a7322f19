package utils

import "testing"

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     uint64
		wantErr  bool
	}{
		{"0.1", 9, 100_000_000, false},
		{"1", 9, 1_000_000_000, false},
		{"0.000000001", 9, 1, false},
		{"2.5", 8, 250_000_000, false},
		{"0.0005", 18, 500_000_000_000_000, false},
		{"10", 9, 10_000_000_000, false},
		{"", 9, 0, true},
		{"-1", 9, 0, true},
		{"0.0000000001", 9, 0, true}, // 精度超过最小单位
		{"abc", 9, 0, true},
		{"1e9", 9, 0, true}, // 不收科学计数法
	}
	for _, c := range cases {
		got, err := ToBaseUnits(c.in, c.decimals)
		if c.wantErr {
			if err == nil {
				t.Errorf("ToBaseUnits(%q, %d): want error, got %d", c.in, c.decimals, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ToBaseUnits(%q, %d): %v", c.in, c.decimals, err)
			continue
		}
		if got != c.want {
			t.Errorf("ToBaseUnits(%q, %d) = %d, want %d", c.in, c.decimals, got, c.want)
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	cases := []struct {
		in       uint64
		decimals int
		want     string
	}{
		{100_000_000, 9, "0.1"},
		{1_000_000_000, 9, "1"},
		{1, 9, "0.000000001"},
		{250_000_000, 8, "2.5"},
		{0, 9, "0"},
	}
	for _, c := range cases {
		if got := FromBaseUnits(c.in, c.decimals); got != c.want {
			t.Errorf("FromBaseUnits(%d, %d) = %q, want %q", c.in, c.decimals, got, c.want)
		}
	}
}
