package impact

import (
	"fmt"

	"karma-impact/internal/domain"
)

// ActionPolicy выбирает действие по накопленным за неделю единицам.
type ActionPolicy func(units int64) domain.ImpactAction

// MessageFormatter строит текст записи журнала.
type MessageFormatter func(action domain.ImpactAction, units int64) string

// SelectAction — пороговая политика по умолчанию.
func SelectAction(units int64) domain.ImpactAction {
	switch {
	case units >= 12:
		return domain.ImpactActionReforestation
	case units >= 8:
		return domain.ImpactActionCarbonOffset
	default:
		return domain.ImpactActionDonation
	}
}

// FormatMessage включает в текст калорийный эквивалент всех единиц недели.
func FormatMessage(action domain.ImpactAction, units int64) string {
	kcal := units * KcalPerUnit
	switch action {
	case domain.ImpactActionReforestation:
		return fmt.Sprintf("You saved %d kcal this week. That's enough to plant a tree 🌳", kcal)
	case domain.ImpactActionCarbonOffset:
		return fmt.Sprintf("You saved %d kcal this week. We offset a bit of carbon for you 🌍", kcal)
	default:
		return fmt.Sprintf("You saved %d kcal this week. A small donation is on its way 💚", kcal)
	}
}
