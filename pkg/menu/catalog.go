package menu

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog holds the literal reply texts the router answers with.
type Catalog struct {
	Greeting             string `yaml:"greeting"`
	Plans                string `yaml:"plans"`
	Products             string `yaml:"products"`
	Evaluation           string `yaml:"evaluation"`
	Attendant            string `yaml:"attendant"`
	ScheduleConfirmation string `yaml:"schedule_confirmation"`
}

// DefaultCatalog returns the built-in replies for Academia X.
func DefaultCatalog() Catalog {
	return Catalog{
		Greeting: "👋 Olá! Bem-vindo à *Academia X*!\nEscolha uma opção:\n\n" +
			"1️⃣ Planos\n2️⃣ Produtos\n3️⃣ Marcar Avaliação\n4️⃣ Falar com Atendente\n\n" +
			"Responda apenas com o número da opção.",
		Plans: "📋 *Nossos Planos:*\n\n" +
			"🏋️ Individual: R$ 89,90/mês\n" +
			"👫 Casal: R$ 149,90/mês\n" +
			"👨‍👩‍👧‍👦 Família (até 4 pessoas): R$ 199,90/mês\n" +
			"👴 Melhor idade (60+): R$ 69,90/mês",
		Products: "🛒 *Produtos à venda:*\n\n" +
			"💪 Whey Protein - R$ 149,90\n" +
			"⚡ Creatina - R$ 89,90\n" +
			"🍚 Hipercalórico - R$ 129,90\n" +
			"🥤 Coqueteleira - R$ 29,90",
		Evaluation: "📅 *Horários disponíveis para avaliação física:*\n\n" +
			"✅ Segunda a Sexta:\n - 08:00\n - 10:30\n - 14:00\n - 17:30\n\n" +
			"💰 Valor: R$ 39,90\n\n" +
			"Para agendar, envie:\n*Quero agendar às [horário]*",
		Attendant: "📞 Um de nossos atendentes falará com você em breve.\n\n" +
			"Se for urgente, envie *URGENTE*.",
		ScheduleConfirmation: "✅ Agendamento recebido!\n" +
			"Vamos verificar a disponibilidade e confirmar com você em breve.",
	}
}

// LoadCatalog reads a YAML catalog from path and overlays it on the defaults.
// Entries missing or blank in the file keep their built-in text.
func LoadCatalog(path string) (Catalog, error) {
	catalog := DefaultCatalog()

	path = strings.TrimSpace(path)
	if path == "" {
		return catalog, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read menu catalog: %w", err)
	}

	var overrides Catalog
	if err := yaml.Unmarshal(content, &overrides); err != nil {
		return Catalog{}, fmt.Errorf("parse menu catalog: %w", err)
	}

	return catalog.merge(overrides), nil
}

func (c Catalog) merge(overrides Catalog) Catalog {
	pick := func(current, override string) string {
		if strings.TrimSpace(override) == "" {
			return current
		}
		return override
	}

	return Catalog{
		Greeting:             pick(c.Greeting, overrides.Greeting),
		Plans:                pick(c.Plans, overrides.Plans),
		Products:             pick(c.Products, overrides.Products),
		Evaluation:           pick(c.Evaluation, overrides.Evaluation),
		Attendant:            pick(c.Attendant, overrides.Attendant),
		ScheduleConfirmation: pick(c.ScheduleConfirmation, overrides.ScheduleConfirmation),
	}
}
