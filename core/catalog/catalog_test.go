package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	cat := Default()

	vip, ok := cat.RedemptionFor("vip_day")
	if !ok {
		t.Fatalf("expected vip_day in default catalog")
	}
	if vip.Cost != 200 || vip.DurationSeconds != 86400 {
		t.Fatalf("unexpected vip_day entry: %+v", vip)
	}
	if _, ok := cat.RedemptionFor("skip_ads"); !ok {
		t.Fatalf("expected skip_ads in default catalog")
	}
	if _, ok := cat.RedemptionFor("free_money"); ok {
		t.Fatalf("unexpected redemption for unknown type")
	}

	binge, ok := cat.AchievementFor("binge_watcher")
	if !ok || binge.Requirement != 10 {
		t.Fatalf("unexpected binge_watcher definition: %+v ok=%v", binge, ok)
	}
	first, ok := cat.AchievementFor("first_watch")
	if !ok || first.Requirement != 1 {
		t.Fatalf("unexpected first_watch definition: %+v ok=%v", first, ok)
	}
	if cat.Rewards.RatingBase != 2 || cat.Rewards.BingeThreeBase != 5 || cat.Rewards.BingeFiveBase != 15 {
		t.Fatalf("unexpected reward bases: %+v", cat.Rewards)
	}
}

func TestLoadRejectsBrokenCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.toml")
	broken := `
[rewards]
rating_base = 2
binge_three_base = 5
binge_five_base = 15

[[redemption]]
type = "vip_day"
name = "VIP"
cost = 0

[[achievement]]
key = "first_watch"
name = "First Watch"
`
	if err := os.WriteFile(path, []byte(broken), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for zero-cost redemption")
	}
}
