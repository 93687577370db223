package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitchlab/coachlink/internal/examples"
)

var flagIndustry string

// examplesCmd represents the examples command.
var examplesCmd = &cobra.Command{
	Use:   "examples [id]",
	Short: "List the built-in pitch catalog",
	Long: `List the curated example pitches, or show one in full.

Each pitch carries a customer persona, a scenario and a transcript the run
command can replay with --example <id>.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showExample(args[0])
		}
		return listExamples(flagIndustry)
	},
}

func init() {
	examplesCmd.Flags().StringVar(&flagIndustry, "industry", "", "only list pitches for this industry")
}

func listExamples(industry string) error {
	pitches := examples.ByIndustry(industry)
	if len(pitches) == 0 {
		return fmt.Errorf("no pitches for industry %q (known: %s)",
			industry, strings.Join(examples.Industries(), ", "))
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINDUSTRY\tTITLE\tTURNS\tLENGTH")
	for _, p := range pitches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%ds\n",
			p.ID, p.Industry, p.Title, len(splitSentences(p.Transcript)), p.DurationSec)
	}
	return w.Flush()
}

func showExample(id string) error {
	p, err := examples.Get(id)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", p.Title, p.Industry)
	fmt.Printf("customer: %s\nscenario: %s\n\n%s\n", p.Customer, p.Scenario, p.Transcript)
	if len(p.TalkingPoints) > 0 {
		fmt.Println("\ntalking points:")
		for _, tp := range p.TalkingPoints {
			fmt.Printf("  - %s\n", tp)
		}
	}
	return nil
}
