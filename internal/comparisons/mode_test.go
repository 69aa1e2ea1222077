package comparisons

import "testing"

func TestDetermineMode(t *testing.T) {
	cases := []struct {
		name  string
		infos []DocumentInfo
		want  Mode
	}{
		{
			"same company different type",
			[]DocumentInfo{
				{CompanyName: "サンプル株式会社", DocumentType: "securities_report", FiscalYear: 2025},
				{CompanyName: "サンプル株式会社", DocumentType: "earnings_report", FiscalYear: 2025},
			},
			ModeConsistencyCheck,
		},
		{
			"different company same type",
			[]DocumentInfo{
				{CompanyName: "A社", DocumentType: "securities_report", FiscalYear: 2025},
				{CompanyName: "B社", DocumentType: "securities_report", FiscalYear: 2025},
			},
			ModeDiffAnalysisCompany,
		},
		{
			"same company same type different year",
			[]DocumentInfo{
				{CompanyName: "A社", DocumentType: "securities_report", FiscalYear: 2024},
				{CompanyName: "A社", DocumentType: "securities_report", FiscalYear: 2025},
			},
			ModeDiffAnalysisYear,
		},
		{
			"three documents",
			[]DocumentInfo{
				{CompanyName: "A社", DocumentType: "securities_report", FiscalYear: 2023},
				{CompanyName: "A社", DocumentType: "securities_report", FiscalYear: 2024},
				{CompanyName: "A社", DocumentType: "securities_report", FiscalYear: 2025},
			},
			ModeMultiDocument,
		},
		{
			"unknown metadata falls back to company diff",
			[]DocumentInfo{
				{DocumentType: "securities_report"},
				{DocumentType: "earnings_report", CompanyName: "B社"},
			},
			ModeDiffAnalysisCompany,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetermineMode(tc.infos); got != tc.want {
				t.Fatalf("DetermineMode() = %s, want %s", got, tc.want)
			}
		})
	}
}
