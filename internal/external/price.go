package external

import (
	"context"
	"net/url"
	"strings"

	"github.com/kjannette/tethra-tap/internal/models"
)

// AllPrices returns the latest price per symbol.
func (b *Backend) AllPrices(ctx context.Context) (map[string]models.PriceData, error) {
	var prices map[string]models.PriceData
	if err := b.get(ctx, "/api/price/all", nil, &prices); err != nil {
		return nil, err
	}
	for sym, p := range prices {
		p.Symbol = sym
		prices[sym] = p
	}
	return prices, nil
}

// SignedPrice returns a price attestation for symbol, reusing one fetched
// within the cache TTL.
func (b *Backend) SignedPrice(ctx context.Context, symbol string, forceRefresh bool) (*models.SignedPrice, error) {
	symbol = strings.ToUpper(symbol)

	b.mu.Lock()
	if c, ok := b.signed[symbol]; ok && !forceRefresh && b.now().Sub(c.fetchedAt) < b.priceTTL {
		p := c.price
		b.mu.Unlock()
		return &p, nil
	}
	b.mu.Unlock()

	var p models.SignedPrice
	if err := b.get(ctx, "/api/price/signed/"+url.PathEscape(symbol), nil, &p); err != nil {
		return nil, err
	}
	if p.Symbol == "" {
		p.Symbol = symbol
	}

	b.mu.Lock()
	b.signed[symbol] = cachedSignedPrice{price: p, fetchedAt: b.now()}
	b.mu.Unlock()

	b.log.WithField("symbol", symbol).WithField("price", p.Price).Debug("Signed price fetched")
	return &p, nil
}
