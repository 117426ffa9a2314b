package cmd

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"
	"unicode/utf16"

	"github.com/spf13/cobra"
)

const scheduledTaskName = `\dchealth\serve`

var scheduledTaskXML = `<?xml version="1.0" encoding="UTF-16"?>
<Task version="1.2" xmlns="http://schemas.microsoft.com/windows/2004/02/mit/task">
  <RegistrationInfo>
    <Description>Domain controller health checks</Description>
  </RegistrationInfo>
  <Triggers>
    <BootTrigger>
      <Enabled>true</Enabled>
    </BootTrigger>
  </Triggers>
  <Principals>
    <Principal id="Author">
      <UserId>{{.User}}</UserId>
      <LogonType>Password</LogonType>
      <RunLevel>HighestAvailable</RunLevel>
    </Principal>
  </Principals>
  <Settings>
    <MultipleInstancesPolicy>IgnoreNew</MultipleInstancesPolicy>
    <DisallowStartIfOnBatteries>false</DisallowStartIfOnBatteries>
    <StopIfGoingOnBatteries>false</StopIfGoingOnBatteries>
    <ExecutionTimeLimit>PT0S</ExecutionTimeLimit>
    <RestartOnFailure>
      <Interval>PT1M</Interval>
      <Count>999</Count>
    </RestartOnFailure>
  </Settings>
  <Actions Context="Author">
    <Exec>
      <Command>{{xml .Executable}}</Command>
      <Arguments>{{xml .Arguments}}</Arguments>
      <WorkingDirectory>{{xml .WorkDir}}</WorkingDirectory>
    </Exec>
  </Actions>
</Task>
`

type taskData struct {
	User       string
	Executable string
	Arguments  string
	WorkDir    string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install dchealth serve as a scheduled task (Windows)",
	Long: `Register "dchealth serve" as a Windows scheduled task that starts at
boot and restarts after a failure.

The task runs as the given account, which needs rights to query the
domain controllers. schtasks prompts for its password.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the dchealth scheduled task (Windows)",
	Long:  `Stop and remove the dchealth scheduled task.`,
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)

	installCmd.Flags().String("user", "", `Account to run the task as (DOMAIN\user)`)
	installCmd.Flags().String("log-file", "", "Redirect service output to this file")
	installCmd.MarkFlagRequired("user")
}

func runInstall(cmd *cobra.Command, args []string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("install command is only supported on Windows")
	}

	user, _ := cmd.Flags().GetString("user")
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return fmt.Errorf("--config is required so the task can find its configuration")
	}
	configPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	// Get the path to the current executable
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	arguments := []string{"serve", "--config", quoteArg(configPath)}
	if dbPath, _ := cmd.Flags().GetString("database"); dbPath != "" {
		abs, err := filepath.Abs(dbPath)
		if err != nil {
			return fmt.Errorf("failed to resolve database path: %w", err)
		}
		arguments = append(arguments, "--database", quoteArg(abs))
	}
	if logFormat, _ := cmd.Flags().GetString("log-format"); logFormat != "" {
		arguments = append(arguments, "--log-format", logFormat)
	}

	data := taskData{
		User:       user,
		Executable: executable,
		Arguments:  strings.Join(arguments, " "),
		WorkDir:    filepath.Dir(configPath),
	}
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		// Task Scheduler does not redirect output, so go through cmd.exe.
		data.Arguments = fmt.Sprintf(`/c ""%s" %s >> "%s" 2>&1"`, executable, data.Arguments, logFile)
		data.Executable = "cmd.exe"
	}

	taskDef, err := renderTask(data)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp("", "dchealth-task-*.xml")
	if err != nil {
		return fmt.Errorf("failed to create task file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(taskDef); err != nil {
		f.Close()
		return fmt.Errorf("failed to write task file: %w", err)
	}
	f.Close()

	schtasks := exec.Command("schtasks", "/Create", "/TN", scheduledTaskName, "/XML", f.Name(), "/RU", user, "/RP", "/F")
	schtasks.Stdin = os.Stdin
	schtasks.Stdout = os.Stdout
	schtasks.Stderr = os.Stderr
	if err := schtasks.Run(); err != nil {
		return fmt.Errorf("failed to register task: %w", err)
	}
	if err := exec.Command("schtasks", "/Run", "/TN", scheduledTaskName).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to start task: %v\n", err)
	}

	fmt.Printf("Installed and started %s\n", scheduledTaskName)
	fmt.Printf("Config: %s\n", configPath)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("uninstall command is only supported on Windows")
	}

	if err := exec.Command("schtasks", "/Query", "/TN", scheduledTaskName).Run(); err != nil {
		return fmt.Errorf("task is not installed")
	}

	if err := exec.Command("schtasks", "/End", "/TN", scheduledTaskName).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to stop task: %v\n", err)
	}
	if out, err := exec.Command("schtasks", "/Delete", "/TN", scheduledTaskName, "/F").CombinedOutput(); err != nil {
		return fmt.Errorf("failed to delete task: %w: %s", err, strings.TrimSpace(string(out)))
	}

	fmt.Printf("Uninstalled %s\n", scheduledTaskName)
	return nil
}

// renderTask renders the task definition as UTF-16LE with a byte order
// mark, which is what schtasks expects for the declared encoding.
func renderTask(data taskData) ([]byte, error) {
	tmpl, err := template.New("task").Funcs(template.FuncMap{"xml": xmlEscape}).Parse(scheduledTaskXML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render task: %w", err)
	}

	units := utf16.Encode([]rune(buf.String()))
	out := make([]byte, 2, 2+2*len(units))
	out[0], out[1] = 0xFF, 0xFE
	for _, u := range units {
		out = append(out, byte(u), byte(u>>8))
	}
	return out, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

// getFullHostname returns the FQDN by doing a reverse DNS lookup on our IP.
func getFullHostname() string {
	// Find our non-loopback IPv4 address
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallbackHostname()
	}

	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
				continue
			}
			names, err := net.LookupAddr(ipnet.IP.String())
			if err == nil && len(names) > 0 {
				return strings.TrimSuffix(names[0], ".")
			}
		}
	}

	return fallbackHostname()
}

func fallbackHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return strings.ToLower(hostname)
}
