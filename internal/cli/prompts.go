package cli

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/cortexflow/config"
)

// confirmLiveOrders asks before a run may send orders to a non-paper broker.
func confirmLiveOrders(cfg *config.Config) (bool, error) {
	var confirmed bool
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Orders will be sent to the %s broker at %s. Continue?", cfg.Broker, cfg.BrokerURL),
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, fmt.Errorf("confirmation cancelled: %w", err)
	}
	return confirmed, nil
}
