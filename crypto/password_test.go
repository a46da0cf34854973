package crypto

import "testing"

func TestPasswordFromFilename(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "date last",
			in:   "cts_cph_holdings_2025-01-02.csv.enc",
			want: "2025-01-02_holdings_cph_cts.csv.enc",
		},
		{
			name: "date with time suffix",
			in:   "cts_cph_holdings_2025-01-02-130500.csv.enc",
			want: "2025-01-02_holdings_cph_cts-130500.csv.enc",
		},
		{
			name: "compact date",
			in:   "sam_cph_20250102.csv.enc",
			want: "20250102_cph_sam.csv.enc",
		},
		{
			name: "compact date with time",
			in:   "sam_cph_20250102-235959.csv.enc",
			want: "20250102_cph_sam-235959.csv.enc",
		},
		{
			name: "date mid-name",
			in:   "a_2025-01-02_b_c.csv.enc",
			want: "2025-01-02_c_b_a.csv.enc",
		},
		{
			name: "full key path uses basename",
			in:   "drops/2025/cts_cph_holdings_2025-01-02.csv.enc",
			want: "2025-01-02_holdings_cph_cts.csv.enc",
		},
		{
			name: "no date token derives unchanged",
			in:   "cts_cph_holdings.csv.enc",
			want: "cts_cph_holdings.csv.enc",
		},
		{
			name: "no extension",
			in:   "cts_2025-01-02",
			want: "2025-01-02_cts",
		},
		{
			name: "single date token",
			in:   "2025-01-02.csv.enc",
			want: "2025-01-02.csv.enc",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PasswordFromFilename(tc.in); got != tc.want {
				t.Fatalf("PasswordFromFilename(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestDateTokenFromFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"cts_cph_holdings_2025-01-02.csv.enc", "2025-01-02"},
		{"sam_cph_20250102-130500.csv.enc", "20250102"},
		{"a_2024-12-31_b.csv.enc", "2024-12-31"},
		{"no_date_here.csv.enc", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := DateTokenFromFilename(tc.in); got != tc.want {
			t.Fatalf("DateTokenFromFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
