package services

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/workshop/modules/backup/domain/catalog"
	"github.com/iota-uz/workshop/modules/backup/domain/snapshot"
	"github.com/iota-uz/workshop/modules/backup/infrastructure/memstore"
	"github.com/iota-uz/workshop/pkg/eventbus"
)

var testPermissions = []string{"taller.view_ordentrabajo", "taller.add_ordentrabajo"}

type testEnv struct {
	catalog *catalog.Catalog
	store   *memstore.Store
	bus     eventbus.EventBusWithError
	logger  *logrus.Entry
	svc     *BackupService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	logger := logrus.NewEntry(log)

	c := catalog.Workshop()
	store := memstore.New(c)
	store.AddTenant(1, "Taller Norte", snapshot.Row{"ruc": "20100000001", "ciudad": "Lima"})
	store.AddTenant(2, "Taller Sur", snapshot.Row{"ruc": "20100000002"})
	store.RegisterPermissions(testPermissions...)

	bus := eventbus.NewEventPublisher(log)
	return &testEnv{
		catalog: c,
		store:   store,
		bus:     bus,
		logger:  logger,
		svc:     NewBackupService(store, c, bus, logger),
	}
}

func newDoc(tenantID int64, tenantName string) *snapshot.Document {
	return &snapshot.Document{
		Metadata: snapshot.Metadata{Version: snapshot.Version, TenantID: tenantID, TenantName: tenantName},
		Tenant:   snapshot.Row{},
	}
}

// workshopSnapshot covers every entity type once, with two order lines.
func workshopSnapshot() *snapshot.Document {
	doc := newDoc(1, "Taller Norte")
	doc.Groups = []snapshot.Group{{ID: 10, Name: "mecanicos", Permissions: testPermissions}}
	doc.Users = []snapshot.User{{ID: 7, Username: "jperez", Email: "jperez@taller.pe", IsActive: true, Groups: []string{"mecanicos"}}}

	doc.SetRows("marcas", []snapshot.Row{{"id": 1, "nombre": "Toyota", "pais": "Japón"}})
	doc.SetRows("modelos", []snapshot.Row{{"id": 3, "marca_id": 1, "nombre": "Hilux", "tipo": "None"}})
	doc.SetRows("areas", []snapshot.Row{{"id": 2, "nombre": "Mecánica"}})
	doc.SetRows("cargos", []snapshot.Row{{"id": 4, "nombre": "Técnico", "sueldo_base": "1800.00"}})
	doc.SetRows("proveedores", []snapshot.Row{{"id": 5, "nombre": "Repuestos SAC", "ruc": "None"}})
	doc.SetRows("categorias_item", []snapshot.Row{{"id": 6, "nombre": "Filtros"}})
	doc.SetRows("items", []snapshot.Row{{
		"id": 8, "codigo": "FLT-001", "nombre": "Filtro de aceite", "precio_compra": "12.50",
		"precio_venta": "25.00", "stock": 10, "categoria_id": 6, "proveedor_id": 5,
	}})
	doc.SetRows("clientes", []snapshot.Row{{
		"id": 11, "ruc": "20123456789", "nombre": "Transportes Lima", "fecha_registro": "2024-01-15T10:00:00Z",
	}})
	doc.SetRows("vehiculos", []snapshot.Row{{
		"id": 12, "placa": "ABC-123", "anio": 2019, "cliente_id": 11, "marca_id": 1, "modelo_id": 3,
	}})
	doc.SetRows("empleados", []snapshot.Row{{
		"id": 13, "numero_documento": "45678912", "nombres": "Luis", "apellidos": "Rojas",
		"fecha_ingreso": "2023-03-01", "sueldo": "2500.00", "cargo_id": 4, "area_id": 2, "usuario_id": 7,
	}})
	doc.SetRows("ordenes_trabajo", []snapshot.Row{{
		"id": 20, "vehiculo_id": 12, "cliente_id": 11, "area_id": 2, "responsable_id": 13,
		"fecha_ingreso": "2024-05-02T08:30:00Z", "total": "999.99",
	}})
	doc.SetRows("detalles_orden", []snapshot.Row{
		{"id": 21, "orden_id": 20, "item_id": 8, "descripcion": "Cambio de filtro", "cantidad": "1.00", "precio_unitario": "25.00", "subtotal": "25.00"},
		{"id": 22, "orden_id": 20, "descripcion": "Mano de obra", "cantidad": "2", "precio_unitario": "40.125", "subtotal": "80.25"},
	})
	doc.SetRows("tareas_orden", []snapshot.Row{{"id": 23, "orden_id": 20, "empleado_id": 13, "descripcion": "Revisión"}})
	doc.SetRows("notas_orden", []snapshot.Row{{"id": 24, "orden_id": 20, "autor_id": 7, "contenido": "Cliente espera"}})
	doc.SetRows("asignaciones_tecnico", []snapshot.Row{{"id": 25, "orden_id": 20, "empleado_id": 13}})
	doc.SetRows("inspecciones", []snapshot.Row{{"id": 26, "vehiculo_id": 12, "orden_id": 20, "empleado_id": 13, "kilometraje": 45000}})
	doc.SetRows("pruebas_ruta", []snapshot.Row{{"id": 27, "orden_id": 20, "empleado_id": 13, "aprobada": true}})
	doc.SetRows("citas", []snapshot.Row{{
		"id": 28, "cliente_id": 11, "vehiculo_id": 12, "empleado_id": 13, "fecha": "2024-06-01T09:00:00Z", "motivo": "Mantenimiento",
	}})
	doc.SetRows("pagos", []snapshot.Row{{"id": 29, "orden_id": 20, "monto": "105.25"}})
	doc.SetRows("facturas", []snapshot.Row{{"id": 30, "numero": "F001-0001", "cliente_id": 11, "orden_id": 20, "igv": "18.95", "total": "0"}})
	doc.SetRows("detalles_factura", []snapshot.Row{{"id": 31, "factura_id": 30, "item_id": 8, "descripcion": "Filtro", "subtotal": "25.00"}})
	doc.SetRows("compras", []snapshot.Row{{"id": 32, "proveedor_id": 5, "numero_comprobante": "C-1", "total": "0"}})
	doc.SetRows("detalles_compra", []snapshot.Row{{"id": 33, "compra_id": 32, "item_id": 8, "cantidad": "10", "costo_unitario": "12.50", "subtotal": "125.00"}})
	doc.SetRows("movimientos_inventario", []snapshot.Row{{"id": 34, "item_id": 8, "orden_id": 20, "tipo": "salida", "cantidad": "1"}})
	doc.SetRows("nominas", []snapshot.Row{{"id": 35, "empleado_id": 13, "periodo": "2024-05", "sueldo_base": "2500.00", "neto": "2350.50"}})
	return doc
}

// orderSnapshot is one client, one vehicle, one work order and two order lines.
func orderSnapshot() *snapshot.Document {
	doc := newDoc(1, "Taller Norte")
	doc.SetRows("clientes", []snapshot.Row{{"id": 11, "ruc": "20123456789", "nombre": "Transportes Lima"}})
	doc.SetRows("vehiculos", []snapshot.Row{{"id": 12, "placa": "ABC-123", "cliente_id": 11}})
	doc.SetRows("ordenes_trabajo", []snapshot.Row{{"id": 20, "vehiculo_id": 12, "cliente_id": 11}})
	doc.SetRows("detalles_orden", []snapshot.Row{
		{"id": 21, "orden_id": 20, "descripcion": "Cambio de aceite", "subtotal": "60.00"},
		{"id": 22, "orden_id": 20, "descripcion": "Alineamiento", "subtotal": "45.50"},
	})
	return doc
}

func findRow(rows []snapshot.Row, field string, value any) snapshot.Row {
	for _, r := range rows {
		if r[field] == value {
			return r
		}
	}
	return nil
}
