package main

import (
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "vrlink",
		Short: "Сервер сессии потоковой передачи на VR шлем",
		Long: `vrlink принимает позу и статистику шлема по UDP, отправляет видео
с FEC, аудио и тактильную отдачу, синхронизирует часы и границу игровой зоны.

Конфигурация читается из YAML файла и переменных окружения VRLINK_*,
например VRLINK_TRANSPORT_LISTEN=:9944.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "путь к файлу конфигурации")

	root.AddCommand(newServeCmd(&configFile))
	root.AddCommand(newConfigCmd(&configFile))
	return root
}
