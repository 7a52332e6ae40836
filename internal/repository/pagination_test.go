package repository

import "testing"

func TestNormalizePageRequest(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   PageRequest
		want PageRequest
	}{
		{"zero value gets defaults", PageRequest{}, PageRequest{Page: DefaultPage, PageSize: DefaultPageSize}},
		{"negative page clamps to first", PageRequest{Page: -3, PageSize: 10}, PageRequest{Page: DefaultPage, PageSize: 10}},
		{"negative size falls back to default", PageRequest{Page: 4, PageSize: -7}, PageRequest{Page: 4, PageSize: DefaultPageSize}},
		{"oversized request is capped", PageRequest{Page: 4, PageSize: MaxPageSize * 3}, PageRequest{Page: 4, PageSize: MaxPageSize}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizePageRequest(tc.in); got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestCalcTotalPages(t *testing.T) {
	for _, tc := range []struct {
		total    int64
		pageSize int
		want     int
	}{
		{0, 10, 0},
		{10, 0, 0},
		{1, 20, 1},
		{40, 20, 2},
		{41, 20, 3},
	} {
		if got := calcTotalPages(tc.total, tc.pageSize); got != tc.want {
			t.Fatalf("calcTotalPages(%d, %d)=%d, want %d", tc.total, tc.pageSize, got, tc.want)
		}
	}
}

func FuzzNormalizePageRequest(f *testing.F) {
	f.Add(0, 0)
	f.Add(-10, MaxPageSize+1)
	f.Add(1, 1)
	f.Add(1<<30, 1<<30)

	f.Fuzz(func(t *testing.T, page, pageSize int) {
		got := normalizePageRequest(PageRequest{Page: page, PageSize: pageSize})
		if got.Page < 1 {
			t.Fatalf("normalized page %d below 1", got.Page)
		}
		if got.PageSize < 1 || got.PageSize > MaxPageSize {
			t.Fatalf("normalized page_size %d outside [1,%d]", got.PageSize, MaxPageSize)
		}
	})
}

func FuzzCalcTotalPages(f *testing.F) {
	f.Add(int64(0), 10)
	f.Add(int64(41), 20)
	f.Add(int64(1)<<60, 1)

	f.Fuzz(func(t *testing.T, total int64, pageSize int) {
		got := calcTotalPages(total, pageSize)
		if total <= 0 || pageSize <= 0 {
			if got != 0 {
				t.Fatalf("empty or invalid input produced %d pages", got)
			}
			return
		}
		if got < 1 {
			t.Fatalf("positive input produced %d pages", got)
		}
		// got is the smallest page count whose capacity covers total.
		if int64(got-1)*int64(pageSize) >= total {
			t.Fatalf("%d pages of %d overshoots total %d", got, pageSize, total)
		}
		if int64(got)*int64(pageSize) < total {
			t.Fatalf("%d pages of %d cannot hold total %d", got, pageSize, total)
		}
	})
}
