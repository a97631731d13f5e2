package main

import (
	"context"
	"fmt"
	"time"

	huntingcorner "github.com/permalinkserbia/hunting-corner-mobile-app"
	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	registerName     string
	registerEmail    string
	registerPassword string
	registerPhone    string
)

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Account password")
	_ = loginCmd.MarkFlagRequired("email")
	_ = loginCmd.MarkFlagRequired("password")

	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Account email")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "Account password")
	registerCmd.Flags().StringVar(&registerPhone, "phone", "", "Phone number (optional)")
	_ = registerCmd.MarkFlagRequired("name")
	_ = registerCmd.MarkFlagRequired("email")
	_ = registerCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, meCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err = client.Session().Login(ctx, huntingcorner.Credentials{Email: loginEmail, Password: loginPassword})
		if err != nil {
			return err
		}
		printUser("Signed in", client.Session().User())
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		err = client.Session().Register(ctx, huntingcorner.RegisterOptions{
			Name:                 registerName,
			Email:                registerEmail,
			Password:             registerPassword,
			PasswordConfirmation: registerPassword,
			Phone:                registerPhone,
		})
		if err != nil {
			return err
		}
		printUser("Registration successful!", client.Session().User())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if !client.Session().Initialize(ctx) {
			fmt.Println("Not signed in.")
			return nil
		}
		if err := client.Session().Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client, err := requireSession(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		user, err := client.Session().FetchCurrentUser(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		printUser("Account", user)
		return nil
	},
}

func printUser(title string, u *huntingcorner.User) {
	fmt.Println(title)
	if u == nil {
		return
	}
	fmt.Printf("  ID:    %s\n", u.ID)
	fmt.Printf("  Name:  %s\n", u.Name)
	fmt.Printf("  Email: %s\n", valueOrDefault(u.Email, "(hidden)"))
}
