package cmd

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"example.com/dompay/services/esocial/config"
	"example.com/dompay/services/esocial/internal/cache"
	"example.com/dompay/services/esocial/internal/models"
	"example.com/dompay/services/esocial/internal/repositories"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the eSocial reference tables",
	Long:  `Upserts reference-table rows used during validation. Without a file, a baseline set of worker categories and payroll rubrics is loaded`,
	RunE:  runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "JSON file with reference items to load")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}

	items, err := loadSeedItems()
	if err != nil {
		return err
	}

	refRepo := repositories.NewReferenceRepository(db, (*cache.RedisCache)(nil))
	if err := refRepo.Seed(context.Background(), items); err != nil {
		return err
	}

	log.Info().Int("count", len(items)).Msg("Reference tables seeded")
	return nil
}

func loadSeedItems() ([]models.ReferenceItem, error) {
	if seedFile == "" {
		return baselineReferenceItems(), nil
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read seed file")
	}

	var items []models.ReferenceItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, "failed to parse seed file")
	}
	return items, nil
}

// baselineReferenceItems covers the reference rows the validator consults:
// the worker categories of eSocial table 01 most commonly declared on S-1202
// events and the rubric natures of table 03
func baselineReferenceItems() []models.ReferenceItem {
	categories := map[string]string{
		"101": "Empregado - Geral",
		"102": "Empregado - Trabalhador rural por pequeno prazo",
		"103": "Empregado - Aprendiz",
		"104": "Empregado - Domestico",
		"105": "Empregado - Contrato a termo firmado nos termos da Lei 9601/98",
		"106": "Trabalhador temporario",
		"111": "Empregado - Contrato de trabalho intermitente",
		"301": "Servidor publico titular de cargo efetivo",
		"701": "Contribuinte individual - Autonomo em geral",
		"721": "Contribuinte individual - Diretor nao empregado com FGTS",
		"722": "Contribuinte individual - Diretor nao empregado sem FGTS",
		"901": "Estagiario",
	}

	rubrics := map[string]string{
		"1000": "Salario, vencimentos, soldos",
		"1002": "Decimo terceiro salario",
		"1003": "Adicional de funcao ou cargo de confianca",
		"1202": "Adicional de insalubridade",
		"1203": "Adicional de periculosidade",
		"1205": "Adicional noturno",
		"1601": "Ferias",
		"1809": "Horas extraordinarias",
		"9201": "Contribuicao previdenciaria",
		"9203": "Imposto sobre a renda retido na fonte",
	}

	items := baselineTable(models.RefTableCategories, categories)
	return append(items, baselineTable(models.RefTableRubrics, rubrics)...)
}

func baselineTable(table string, rows map[string]string) []models.ReferenceItem {
	validFrom := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)

	items := make([]models.ReferenceItem, 0, len(rows))
	for code, description := range rows {
		items = append(items, models.ReferenceItem{
			Table:       table,
			Code:        code,
			Description: description,
			Active:      true,
			ValidFrom:   validFrom,
		})
	}
	return items
}
