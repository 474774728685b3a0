package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/calendar"
	"flight-price-alerts/internal/offers"
)

// SimulateAlert 以给定的人均价格构造一条模拟报价，并通过已配置的通道发送告警。
func (a *App) SimulateAlert(ctx context.Context, perPerson decimal.Decimal) error {
	if !perPerson.IsPositive() {
		return errors.New("--price 必须大于 0")
	}

	var notifier alerting.Notifier = logNotifier{logger: a.Logger}
	if tg := a.newTelegram(); tg != nil {
		notifier = tg
	}

	candidate, err := a.syntheticCandidate(perPerson, time.Now())
	if err != nil {
		return err
	}
	threshold := a.Config.Alerting.ThresholdPerPerson
	if perPerson.GreaterThan(threshold) {
		a.Logger.Warn().Str("price", perPerson.StringFixed(2)).Str("threshold", threshold.StringFixed(2)).
			Msg("模拟价格高于阈值，真实轮询不会触发告警")
	}
	return notifier.Notify(ctx, alerting.FormatAlert(candidate, threshold))
}

func (a *App) syntheticCandidate(perPerson decimal.Decimal, now time.Time) (offers.Candidate, error) {
	dates, err := a.Config.SearchDates()
	if err != nil {
		return offers.Candidate{}, err
	}
	outLoc, inLoc, err := a.Config.Windows.Locations()
	if err != nil {
		return offers.Candidate{}, err
	}

	adults := a.Config.Search.Adults
	offer := offers.Offer{
		ID:                "simulated-" + now.UTC().Format("20060102T150405"),
		Origin:            a.Config.Search.Origin,
		Destination:       a.Config.Search.Destination,
		Carriers:          []string{"SIM"},
		OutboundDeparture: atClock(dates.DepartureFrom, outLoc, 9),
		TotalPrice:        perPerson.Mul(decimal.NewFromInt(int64(adults))),
		Currency:          a.Config.Search.Currency,
		Adults:            adults,
	}
	offer.OutboundArrival = offer.OutboundDeparture.Add(3 * time.Hour)
	if !dates.ReturnFrom.IsZero() {
		offer.InboundDeparture = atClock(dates.ReturnFrom, inLoc, 18)
		offer.InboundArrival = offer.InboundDeparture.Add(3 * time.Hour)
	}

	google, skyscanner := offers.DeepLinks(a.Config.Telegram.LinkLocale)(offer)
	return offers.Candidate{
		Offer:            offer,
		PricePerPerson:   perPerson.Round(2),
		GoogleFlightsURL: google,
		SkyscannerURL:    skyscanner,
	}, nil
}

func atClock(d calendar.Day, loc *time.Location, hour int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, 0, 0, 0, loc)
}
