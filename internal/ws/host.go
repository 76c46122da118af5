package ws

import "resource_wars/internal/game"

// Caller - кто прислал намерение: id игрока из привязки соединения
// и кошелек, которым он представился
type Caller struct {
	PlayerID string
	Wallet   string
}

type hostPredicate struct {
	name  string
	match func(s *game.Session, c Caller) bool
}

// Права хоста проверяются по списку: id, затем кошелек хоста, затем
// первый игрок, если hostId не указывает ни на кого. Достаточно одного совпадения
var hostPredicates = []hostPredicate{
	{name: "id", match: hostByID},
	{name: "wallet", match: hostByWallet},
	{name: "first-player", match: hostByFirstPlayerFallback},
}

func hostByID(s *game.Session, c Caller) bool {
	return c.PlayerID != "" && c.PlayerID == s.HostID
}

// id мог разъехаться с кошельком (сгенерированный id vs адрес)
func hostByWallet(s *game.Session, c Caller) bool {
	if c.Wallet == "" {
		return false
	}
	host := s.Player(s.HostID)
	return host != nil && host.WalletAddress == c.Wallet
}

func hostByFirstPlayerFallback(s *game.Session, c Caller) bool {
	if len(s.Players) == 0 || s.Player(s.HostID) != nil {
		return false
	}
	return s.Players[0].ID == c.PlayerID
}

// isHost возвращает имя сработавшего правила
func isHost(s *game.Session, c Caller) (bool, string) {
	for _, p := range hostPredicates {
		if p.match(s, c) {
			return true, p.name
		}
	}
	return false, ""
}
