package scheduler

import "testing"

func TestTotalProxiesSumsAcrossSessions(t *testing.T) {
	result := map[string][]string{
		"CoinMarketCap": {"1.1.1.1:80", "2.2.2.2:81"},
		"Other":         {"3.3.3.3:82"},
	}
	if got := totalProxies(result); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestTotalProxiesEmpty(t *testing.T) {
	if got := totalProxies(map[string][]string{}); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}
