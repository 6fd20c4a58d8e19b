package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("proxies")

		collection.Fields.Add(
			&core.TextField{
				Name:     "ip",
				Required: true,
			},
			&core.NumberField{
				Name:     "port",
				Required: true,
				OnlyInt:  true,
			},
			&core.TextField{
				Name: "username",
			},
			&core.TextField{
				Name: "password",
			},
			&core.BoolField{
				Name: "active",
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

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("proxies")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
