package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("webook_accounts")

		collection.Fields.Add(
			&core.TextField{
				Name:     "email",
				Required: true,
			},
			&core.TextField{
				Name:     "password",
				Required: true,
			},
			&core.TextField{
				Name: "cookies_json",
				Max:  100000,
			},
			&core.BoolField{
				Name: "disabled",
			},
			&core.NumberField{
				Name:    "tickets_grabbed",
				OnlyInt: true,
			},
			&core.AutodateField{
				Name:     "created",
				OnCreate: true,
			},
			&core.AutodateField{
				Name:     "updated",
				OnCreate: true,
				OnUpdate: true,
			},
		)

		collection.AddIndex("idx_webook_accounts_email", true, "email", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("webook_accounts")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
