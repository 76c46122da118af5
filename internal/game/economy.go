package game

import "fmt"

// Apply применяет действие игрока к сессии. Не делает I/O и не трогает таймеры.
// При ошибке состояние не меняется.
func Apply(s *Session, actorID string, a Action) (string, error) {
	actor := s.Player(actorID)
	if actor == nil {
		return "", ErrPlayerNotFound
	}
	price, ok := Price(a.Resource)
	if !ok {
		return "", ErrUnknownResource
	}
	if a.Amount <= 0 || a.Amount > MaxActionAmount {
		return "", ErrInvalidAmount
	}

	switch a.Type {
	case ActionBuy:
		return buy(actor, a.Resource, a.Amount, price)
	case ActionSell:
		return sell(actor, a.Resource, a.Amount, price)
	case ActionBurn:
		return burn(actor, &s.Market, a.Resource, a.Amount)
	case ActionSabotage:
		return sabotage(s, actor, a.Target, a.Resource, a.Amount)
	}
	return "", ErrUnknownAction
}

func buy(p *Player, r Resource, amount, price int) (string, error) {
	// сравнение делением, без умножения
	if amount > p.Tokens/price {
		return "", fmt.Errorf("%w: need %d per unit, have %d", ErrInsufficientTokens, price, p.Tokens)
	}
	cost := price * amount
	p.Tokens -= cost
	*p.Assets.ref(r) += amount
	return fmt.Sprintf("%s bought %d %s for %d tokens", p.Name, amount, r, cost), nil
}

func sell(p *Player, r Resource, amount, price int) (string, error) {
	held := p.Assets.Get(r)
	if held < amount {
		return "", fmt.Errorf("%w: need %d %s, have %d", ErrInsufficientAssets, amount, r, held)
	}
	// целочисленное деление = floor для неотрицательных значений
	payout := price * amount * SellPayoutPct / 100
	*p.Assets.ref(r) -= amount
	p.Tokens += payout
	return fmt.Sprintf("%s sold %d %s for %d tokens", p.Name, amount, r, payout), nil
}

func burn(p *Player, m *Market, r Resource, amount int) (string, error) {
	held := p.Assets.Get(r)
	if held < amount {
		return "", fmt.Errorf("%w: need %d %s, have %d", ErrInsufficientAssets, amount, r, held)
	}
	*p.Assets.ref(r) -= amount
	m.Shift(r, amount*BurnMarketFactor)
	return fmt.Sprintf("%s burned %d %s, %s market now %s", p.Name, amount, r, r, m.Channel(r).Percentage), nil
}

func sabotage(s *Session, actor *Player, targetID string, r Resource, amount int) (string, error) {
	if actor.Tokens < SabotageCost {
		return "", fmt.Errorf("%w: sabotage costs %d", ErrInsufficientTokens, SabotageCost)
	}
	target := s.Player(targetID)
	if target == nil || target.ID == actor.ID {
		return "", ErrInvalidTarget
	}
	// запрошенное количество зажимается по запасу цели
	debit := clamp(amount, 0, target.Assets.Get(r))
	if debit == 0 {
		return "", ErrNothingToSabotage
	}
	actor.Tokens -= SabotageCost
	*target.Assets.ref(r) -= debit
	return fmt.Sprintf("%s sabotaged %s: -%d %s", actor.Name, target.Name, debit, r), nil
}
