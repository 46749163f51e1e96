package main

import (
	"fmt"
	"os"
	"strings"
)

// uiMode управляет запуском интерактивной карты памяти после plan.
type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q for the memory map viewer (expected auto|on|off)", value)
	}
}

// shouldUseTUI: в auto карта открывается только на живом терминале, чтобы
// пайпы и CI получали чистый текстовый вывод.
func shouldUseTUI(mode uiMode) bool {
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	default:
		return isTerminal(os.Stdout)
	}
}
